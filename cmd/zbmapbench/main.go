// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// The zbmapbench command drives configurable put/get/remove workloads
// against zbmap instances and exposes their stats as Prometheus metrics.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"

	"github.com/aristanetworks/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/zbio/gozb/monotime"
	"github.com/zbio/gozb/zbmap"
)

func main() {
	configFlag := flag.String("config", "", "Path to the workload config file")
	listenaddr := flag.String("listenaddr", "", "Address on which to expose the metrics; empty disables the HTTP endpoint")
	url := flag.String("url", "/metrics", "URL where to expose the metrics")
	seed := flag.Int64("seed", 1, "Seed for the workload key generator")
	flag.Parse()

	if *configFlag == "" {
		glog.Fatal("You need to specify a config file using the -config flag")
	}
	cfg, err := os.ReadFile(*configFlag)
	if err != nil {
		glog.Fatalf("Can't read config file %q: %v", *configFlag, err)
	}
	config, err := parseConfig(cfg)
	if err != nil {
		glog.Fatal(err)
	}

	maps := make([]*zbmap.Bytes2BytesZbMap, config.Maps)
	for i := range maps {
		m, err := zbmap.NewBytes2BytesZbMap(zbmap.Config{
			InitialTableSize:        config.InitialTableSize,
			MinBlockCountPerBucket:  config.BlocksPerBucket,
			MaxKeyLength:            config.KeyLength,
			MaxValueLength:          config.ValueLength,
			LoadFactorOverflowLimit: config.LoadFactorOverflowLimit,
		})
		if err != nil {
			glog.Fatalf("Can't create map %d: %v", i, err)
		}
		maps[i] = m
		prometheus.MustRegister(zbmap.NewCollector(m.Map(), fmt.Sprintf("bench-%d", i)))
	}

	if *listenaddr != "" {
		http.Handle(*url, promhttp.Handler())
		go func() {
			glog.Fatal(http.ListenAndServe(*listenaddr, nil))
		}()
		glog.Infof("Serving metrics on %s%s", *listenaddr, *url)
	}

	start := monotime.Now()
	var group errgroup.Group
	for i, m := range maps {
		i, m := i, m
		group.Go(func() error {
			return runWorkload(i, m, config, *seed+int64(i))
		})
	}
	if err := group.Wait(); err != nil {
		glog.Fatal(err)
	}
	glog.Infof("%d maps x %d operations in %s",
		config.Maps, config.Operations, monotime.Since(start))

	for _, m := range maps {
		if err := m.Close(); err != nil {
			glog.Errorf("Close failed: %v", err)
		}
	}
}

// runWorkload puts Operations entries, reads each back, then removes
// Operations*RemoveFraction randomly drawn keys. The map is single-writer, so the whole workload of
// one map runs on one goroutine.
func runWorkload(id int, m *zbmap.Bytes2BytesZbMap, config *Config, seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	key := make([]byte, config.KeyLength)
	value := make([]byte, config.ValueLength)
	dst := make([]byte, config.ValueLength)

	for op := 0; op < config.Operations; op++ {
		binary.LittleEndian.PutUint64(key, uint64(op))
		rng.Read(value)
		if _, err := m.Put(key, value); err != nil {
			return fmt.Errorf("map %d: put %d: %v", id, op, err)
		}
		if ok, err := m.Get(key, dst); err != nil || !ok {
			return fmt.Errorf("map %d: get %d: ok=%t err=%v", id, op, ok, err)
		}
	}

	removals := int(float64(config.Operations) * config.RemoveFraction)
	for op := 0; op < removals; op++ {
		binary.LittleEndian.PutUint64(key, uint64(rng.Intn(config.Operations)))
		if _, err := m.Remove(key, dst); err != nil {
			return fmt.Errorf("map %d: remove: %v", id, err)
		}
	}

	glog.V(1).Infof("map %d: %d entries, table size %d, load factor %.2f",
		id, m.Map().Size(), m.Map().TableSize(), m.Map().LoadFactor())
	return nil
}
