package session

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Requests and responses are each one line of lower case hex. A request is the text of one
// command. A response is a flag byte followed by either a marshalled Result (flag 0) or an
// error message (flag 1).

const (
	flagResult = 0
	flagError  = 1
)

// RemoteError is an error returned by the server.
type RemoteError struct {
	Message string
}

func (re *RemoteError) Error() string {
	return re.Message
}

func WriteLine(w io.Writer, b []byte) error {
	_, err := io.WriteString(w, hex.EncodeToString(b)+"\n")
	return err
}

func ReadLine(r *bufio.Reader) ([]byte, error) {
	s, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && s != "" {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	b, err := hex.DecodeString(strings.TrimRight(s, "\r\n"))
	if err != nil {
		return nil, fmt.Errorf("session: bad line: %w", err)
	}
	return b, nil
}

func EncodeResponse(r Result, err error) []byte {
	if err != nil {
		return append([]byte{flagError}, err.Error()...)
	}
	return append([]byte{flagResult}, r.Marshal()...)
}

func DecodeResponse(b []byte) (Result, error) {
	if len(b) == 0 {
		return Result{}, errors.New("session: empty response")
	}
	switch b[0] {
	case flagResult:
		return UnmarshalResult(b[1:])
	case flagError:
		return Result{}, &RemoteError{Message: string(b[1:])}
	}
	return Result{}, fmt.Errorf("session: bad response flag: %d", b[0])
}
