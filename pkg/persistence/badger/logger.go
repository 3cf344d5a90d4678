package badger

import (
	"strings"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

var _ badgerdb.Logger = (*badgerLogger)(nil)

// badgerLogger routes badger's internal logging through zap. Badger's info
// output (compactions, value log GC) is logged at debug level.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func newBadgerLogger(logger *zap.Logger) *badgerLogger {
	return &badgerLogger{sugar: logger.Named("badger").Sugar()}
}

func trimFormat(format string) string {
	return strings.TrimRight(format, "\n")
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.sugar.Errorf(trimFormat(format), args...)
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.sugar.Warnf(trimFormat(format), args...)
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.sugar.Debugf(trimFormat(format), args...)
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.sugar.Debugf(trimFormat(format), args...)
}
