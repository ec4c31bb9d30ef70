package monotime_test

import (
	"fmt"
	"time"

	"github.com/zbio/gozb/monotime"
)

func Example() {
	start := monotime.Now()
	time.Sleep(1 * time.Nanosecond)
	fmt.Println(monotime.Since(start))
}
