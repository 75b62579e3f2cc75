package util

import (
	"bytes"
	"testing"

	log "github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"github.com/sidkik/dirmirror/pkg/errors"
)

func TestHandleFatalError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		expStderr string
		expLogged bool
	}{
		{
			name:      "Friendly",
			err:       errors.NewFriendlyError("Something is %s.", "wrong"),
			expStderr: "Something is wrong.\n",
		},
		{
			name:      "WrappedFriendly",
			err:       errors.WithContext(errors.NewFriendlyError("Something is wrong."), "context"),
			expStderr: "Something is wrong.\n",
		},
		{
			name:      "Unfriendly",
			err:       errors.WithContext(errors.New("root cause"), "context"),
			expLogged: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			hook := logrusTest.NewGlobal()
			defer hook.Reset()

			var output bytes.Buffer
			stderr = &output

			var exitCode int
			exit = func(code int) {
				exitCode = code
			}

			HandleFatalError(test.err)
			assert.Equal(t, 1, exitCode)
			assert.Equal(t, test.expStderr, output.String())

			if test.expLogged {
				entry := hook.LastEntry()
				if assert.NotNil(t, entry) {
					assert.Equal(t, log.ErrorLevel, entry.Level)
					assert.Equal(t, test.err, entry.Data[log.ErrorKey])
				}
			} else {
				assert.Nil(t, hook.LastEntry())
			}
		})
	}
}

func TestHandlePanic(t *testing.T) {
	hook := logrusTest.NewGlobal()
	defer hook.Reset()

	assert.PanicsWithValue(t, "boom", func() {
		defer HandlePanic()
		panic("boom")
	})

	entry := hook.LastEntry()
	if assert.NotNil(t, entry) {
		assert.Equal(t, "Unexpected panic", entry.Message)
		assert.Equal(t, "boom", entry.Data["panic"])
	}
}
