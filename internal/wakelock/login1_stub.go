//go:build !linux

package wakelock

import "errors"

func dialLogind() (inhibitConn, error) {
	return nil, errors.ErrUnsupported
}
