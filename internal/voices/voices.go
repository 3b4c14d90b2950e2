// Package voices holds the catalog of voice codes understood by the vendored
// Kokoro engine and validates requested voices against it.
//
// The catalog is a fixed table: the engine ships its voice embeddings in
// voices-v1.0.bin and exposes no discovery mechanism, so the deployable set
// is pinned here.
package voices

import (
	"errors"
	"fmt"
	"sort"
)

// Genders used in the catalog.
const (
	GenderFemale = "female"
	GenderMale   = "male"
)

// Static errors.
var (
	ErrVoiceEmpty   = errors.New("voice cannot be empty")
	ErrUnknownVoice = errors.New("unknown voice")
)

// Voice is one synthesizable voice.
type Voice struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Gender   string `json:"gender"`
}

// catalog mirrors the voice table of the upstream Kokoro v1.0 release. The
// code prefix encodes language and gender (a=en-us, b=en-gb, j=ja; f/m).
var catalog = []Voice{
	{Code: "af_sarah", Language: "en-us", Gender: GenderFemale},
	{Code: "af_nova", Language: "en-us", Gender: GenderFemale},
	{Code: "af_alloy", Language: "en-us", Gender: GenderFemale},
	{Code: "af_echo", Language: "en-us", Gender: GenderFemale},
	{Code: "am_adam", Language: "en-us", Gender: GenderMale},
	{Code: "am_onyx", Language: "en-us", Gender: GenderMale},
	{Code: "am_fable", Language: "en-us", Gender: GenderMale},
	{Code: "bf_emma", Language: "en-gb", Gender: GenderFemale},
	{Code: "bf_charlotte", Language: "en-gb", Gender: GenderFemale},
	{Code: "bm_brian", Language: "en-gb", Gender: GenderMale},
	{Code: "bm_daniel", Language: "en-gb", Gender: GenderMale},
	{Code: "jf_alpha", Language: "ja", Gender: GenderFemale},
	{Code: "jm_kumo", Language: "ja", Gender: GenderMale},
}

var byCode = func() map[string]Voice {
	m := make(map[string]Voice, len(catalog))
	for _, v := range catalog {
		m[v.Code] = v
	}

	return m
}()

// Validate returns nil when code names a known voice.
func Validate(code string) error {
	if code == "" {
		return ErrVoiceEmpty
	}

	_, ok := byCode[code]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVoice, code)
	}

	return nil
}

// Lookup returns the catalog entry for code.
func Lookup(code string) (Voice, error) {
	voice, ok := byCode[code]
	if !ok {
		return Voice{}, fmt.Errorf("%w: %q", ErrUnknownVoice, code)
	}

	return voice, nil
}

// All returns the catalog sorted by language, then gender, then code.
func All() []Voice {
	out := make([]Voice, len(catalog))
	copy(out, catalog)

	sort.Slice(out, func(i, j int) bool {
		if out[i].Language != out[j].Language {
			return out[i].Language < out[j].Language
		}

		if out[i].Gender != out[j].Gender {
			return out[i].Gender < out[j].Gender
		}

		return out[i].Code < out[j].Code
	})

	return out
}

// Languages returns the distinct language tags in the catalog, sorted.
func Languages() []string {
	seen := make(map[string]struct{})

	var out []string

	for _, v := range catalog {
		_, ok := seen[v.Language]
		if ok {
			continue
		}

		seen[v.Language] = struct{}{}
		out = append(out, v.Language)
	}

	sort.Strings(out)

	return out
}
