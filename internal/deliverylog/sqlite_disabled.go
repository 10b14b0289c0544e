//go:build !sqlite
// +build !sqlite

package deliverylog

import (
	"errors"

	logx "courier/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite delivery log not built: build with -tags sqlite")
}
