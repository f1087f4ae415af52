package session

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestLines(t *testing.T) {
	var buf bytes.Buffer
	lines := []string{"begin rr", "insert hello world", "", "commit"}
	for _, line := range lines {
		err := WriteLine(&buf, []byte(line))
		if err != nil {
			t.Fatalf("WriteLine(%q) failed with %s", line, err)
		}
	}

	if s := buf.String(); s != strings.ToLower(s) {
		t.Errorf("WriteLine() got %q want lower case", s)
	}

	r := bufio.NewReader(&buf)
	for _, line := range lines {
		b, err := ReadLine(r)
		if err != nil {
			t.Fatalf("ReadLine() failed with %s", err)
		} else if string(b) != line {
			t.Errorf("ReadLine() got %q want %q", b, line)
		}
	}
	_, err := ReadLine(r)
	if err != io.EOF {
		t.Errorf("ReadLine() got %v want %s", err, io.EOF)
	}

	_, err = ReadLine(bufio.NewReader(strings.NewReader("zz\n")))
	if err == nil {
		t.Error("ReadLine(zz) did not fail")
	}
	_, err = ReadLine(bufio.NewReader(strings.NewReader("6162")))
	if err != io.ErrUnexpectedEOF {
		t.Errorf("ReadLine(6162) got %v want %s", err, io.ErrUnexpectedEOF)
	}
}

func TestResponse(t *testing.T) {
	b := EncodeResponse(Result{Tag: "delete 1"}, nil)
	if b[0] != flagResult {
		t.Errorf("EncodeResponse() got flag %d want %d", b[0], flagResult)
	}
	r, err := DecodeResponse(b)
	if err != nil {
		t.Errorf("DecodeResponse() failed with %s", err)
	} else if r.Tag != "delete 1" {
		t.Errorf("DecodeResponse() got %q want %q", r.Tag, "delete 1")
	}

	b = EncodeResponse(Result{}, ErrNoTransaction)
	if b[0] != flagError {
		t.Errorf("EncodeResponse() got flag %d want %d", b[0], flagError)
	}
	_, err = DecodeResponse(b)
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Errorf("DecodeResponse() got %v want RemoteError", err)
	} else if re.Message != ErrNoTransaction.Error() {
		t.Errorf("DecodeResponse() got %q want %q", re.Message, ErrNoTransaction.Error())
	}

	_, err = DecodeResponse(nil)
	if err == nil {
		t.Error("DecodeResponse(nil) did not fail")
	}
	_, err = DecodeResponse([]byte{7})
	if err == nil {
		t.Error("DecodeResponse(7) did not fail")
	}
}
