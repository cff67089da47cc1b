// Package jsonadapter wraps encoding/json for callers that treat a failed
// encode or decode as "no value" rather than an error to propagate.
package jsonadapter

import (
	"encoding/json"

	"github.com/phuslu/log"

	"cio-queue/internal/logging"
)

// Adapter logs codec failures and reports them through the ok result.
type Adapter struct {
	logger *log.Logger
}

func New(logger *log.Logger) *Adapter {
	return &Adapter{logger: logging.OrDiscard(logger)}
}

// ToJSON encodes v.
func ToJSON[T any](a *Adapter, v T) ([]byte, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		a.logger.Error().Err(err).Msgf("json encode %T", v)
		return nil, false
	}
	return data, true
}

// FromJSON decodes data into a new T.
func FromJSON[T any](a *Adapter, data []byte) (T, bool) {
	var v T
	if len(data) == 0 {
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		a.logger.Error().Err(err).Msgf("json decode %T", v)
		return v, false
	}
	return v, true
}
