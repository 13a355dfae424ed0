package common

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	prettyconsole "github.com/thessem/zap-prettyconsole"
	"go.uber.org/zap"
)

// NewLogger builds the pretty console logger for local runs and the JSON
// production logger everywhere else.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return prettyconsole.NewLogger(zap.DebugLevel), nil
	}

	log, err := zap.NewProduction()
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize logger")
	}
	return log, nil
}

// Marshal encodes t as JSON without HTML escaping, so messages such as
// "R$ 100,00 -> ok" stay readable on the wire.
func Marshal(t interface{}) ([]byte, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	err := encoder.Encode(t)
	return bytes.TrimRight(buffer.Bytes(), "\n"), err
}

func JSON(c *gin.Context, code int, obj interface{}) {
	jsonStr, err := Marshal(obj)
	if err != nil {
		c.AbortWithStatusJSON(500, gin.H{"error": "Internal server error"})
		return
	}
	c.Data(code, "application/json; charset=utf-8", jsonStr)
}

// ParseID parses a test case identifier. Only plain base-10 integers are
// accepted; "12abc" is rejected rather than truncated.
func ParseID(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidID, "%q", raw)
	}
	return id, nil
}
