package internal

import (
	"fmt"
	"io"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// CloseWithErrLogf closes the given closer and logs any close error with the
// given message instead of returning it. Meant to be used in defers.
func CloseWithErrLogf(logger log.Logger, closer io.Closer, format string, a ...interface{}) {
	if err := closer.Close(); err != nil {
		level.Warn(logger).Log("msg", fmt.Sprintf(format, a...), "err", err)
	}
}
