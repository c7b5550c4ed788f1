package ingest

import (
	"fmt"
	"os"

	"bellstat/domain/event"
	apperrors "bellstat/internal/errors"

	"github.com/tidwall/gjson"
)

// ParseSync decodes a sync artifact. "delta_ticks" is required; "pk",
// "offset_ticks", "drift", "phase_ticks" and "run" are optional, with pk
// defaulting to 1.
func ParseSync(data []byte) (event.SyncParameters, error) {
	if !gjson.ValidBytes(data) {
		return event.SyncParameters{}, apperrors.InvalidInput("sync artifact is not valid JSON")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return event.SyncParameters{}, apperrors.InvalidInput("sync artifact must be a JSON object")
	}

	p := event.SyncParameters{PulsesPerTrial: 1}
	delta := doc.Get("delta_ticks")
	if delta.Type != gjson.Number {
		return p, apperrors.InvalidInput(`sync artifact needs a numeric "delta_ticks"`)
	}
	p.Period = delta.Float()

	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"offset_ticks", &p.Offset},
		{"drift", &p.Drift},
		{"phase_ticks", &p.Phase},
	} {
		v := doc.Get(f.key)
		if !v.Exists() {
			continue
		}
		if v.Type != gjson.Number {
			return p, apperrors.InvalidInput(fmt.Sprintf("sync field %q must be a number, got %s", f.key, v.Raw))
		}
		*f.dst = v.Float()
	}
	if pk := doc.Get("pk"); pk.Exists() {
		if !isInteger(pk) || pk.Int() <= 0 {
			return p, apperrors.InvalidInput(fmt.Sprintf(`sync field "pk" must be a positive integer, got %s`, pk.Raw))
		}
		p.PulsesPerTrial = int(pk.Int())
	}
	p.Run = doc.Get("run").String()

	if err := p.Validate(); err != nil {
		return p, apperrors.WithCode(apperrors.CodeInvalidInput, err)
	}
	return p, nil
}

// LoadSync reads a sync artifact from disk.
func LoadSync(path string) (event.SyncParameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return event.SyncParameters{}, apperrors.InvalidInputf(err, "open sync artifact")
	}
	p, err := ParseSync(data)
	if err != nil {
		return p, apperrors.Wrapf(err, "sync %s", path)
	}
	return p, nil
}
