//go:build windows

/*
 *
 * Copyright 2018 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package transport

import (
	"encoding/binary"
	"net"

	"golang.org/x/sys/windows"
)

// setTCPUserTimeout sets TCP_MAXRT (the closest Windows equivalent of
// Linux's TCP_USER_TIMEOUT) on the dialed socket, in seconds, so a dead
// peer is detected even with no application-level keepalive probe in
// flight yet (spec §4.2, active transport).
func setTCPUserTimeout(conn net.Conn, timeoutMS uint32) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}
	seconds := timeoutMS / 1000
	if seconds == 0 && timeoutMS > 0 {
		seconds = 1
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], seconds)

	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = windows.Setsockopt(windows.Handle(fd), windows.IPPROTO_TCP, windows.TCP_MAXRT, &buf[0], int32(len(buf)))
	}); err != nil {
		return err
	}
	return sockErr
}
