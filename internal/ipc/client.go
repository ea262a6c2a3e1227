package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

const (
	dialTimeout = 2 * time.Second
	ioTimeout   = 5 * time.Second
)

// Send dials the daemon socket, writes cmd and reads one response.
func Send(socketPath string, cmd Command) (Response, error) {
	var resp Response
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return resp, fmt.Errorf("connect to daemon socket %s: %w", socketPath, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(ioTimeout))

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return resp, fmt.Errorf("send command %s: %w", cmd.Name, err)
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return resp, fmt.Errorf("read response to %s: %w", cmd.Name, err)
	}
	return resp, nil
}

// Status asks the daemon for its current status.
func Status(socketPath string) (StatusData, error) {
	var data StatusData
	resp, err := Send(socketPath, Command{Name: CmdStatus})
	if err != nil {
		return data, err
	}
	if !resp.Success {
		return data, fmt.Errorf("status: %s", resp.Message)
	}
	if err := DecodeData(resp.Data, &data); err != nil {
		return data, fmt.Errorf("decode status: %w", err)
	}
	return data, nil
}

// DecodeData converts the generic Data of a response into out.
func DecodeData(input interface{}, out interface{}) error {
	if input == nil {
		return nil
	}
	b, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return nil
}
