package cycle

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

type Limit int

const (
	INFINITY Limit = math.MaxInt32
)

// UntilError runs f until it succeeds or attempts are exhausted, sleeping
// interval between tries. The last error is returned.
func UntilError(f func() error, interval time.Duration, attempts Limit, log *logrus.Logger) error {
	counter := Limit(1)
	if attempts < 1 {
		attempts = 1
	}
	for {
		err := f()
		if err == nil {
			return nil
		}
		if counter >= attempts {
			return err
		}
		log.Errorf("attempt %d of %d failed: %v", counter, attempts, err)
		counter++
		time.Sleep(interval)
	}
}
