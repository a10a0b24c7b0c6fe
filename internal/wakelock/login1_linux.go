//go:build linux

package wakelock

import "github.com/coreos/go-systemd/v22/login1"

func dialLogind() (inhibitConn, error) {
	conn, err := login1.New()
	if err != nil {
		return nil, err
	}
	return conn, nil
}
