package db

import (
	"errors"
	"testing"
)

func TestError_Message(t *testing.T) {
	cause := errors.New("connection reset")
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Op: OpGet, Key: "emb:abc", Err: cause}, "GET emb:abc: connection reset"},
		{&Error{Op: OpDel, Err: cause}, "DEL: connection reset"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
		if !errors.Is(tt.err, cause) {
			t.Errorf("%q does not unwrap to the cause", tt.err)
		}
	}
}
