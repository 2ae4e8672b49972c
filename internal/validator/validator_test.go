package validator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"asyncpub/internal/validator"
)

type dep struct{}

func TestValidate(t *testing.T) {
	var nilDep *dep
	var nilFunc func()

	tests := []struct {
		name    string
		deps    []any
		wantErr bool
	}{
		{name: "all present", deps: []any{&dep{}, "topic", 10, time.Second, func() {}}},
		{name: "nil interface", deps: []any{nil}, wantErr: true},
		{name: "nil pointer", deps: []any{nilDep}, wantErr: true},
		{name: "nil func", deps: []any{nilFunc}, wantErr: true},
		{name: "empty string", deps: []any{""}, wantErr: true},
		{name: "zero int", deps: []any{0}, wantErr: true},
		{name: "negative int", deps: []any{-1}, wantErr: true},
		{name: "zero duration", deps: []any{time.Duration(0)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate("test", tt.deps...)
			if tt.wantErr {
				assert.ErrorContains(t, err, "test")
				return
			}
			assert.NoError(t, err)
		})
	}
}
