package cache

import "encoding/json"

// Options is the per-request cache policy. Reads are opt-in, writes are on by
// default.
type Options struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
	// MaxAgeSeconds bounds how old a cached row may be; nil accepts any age.
	MaxAgeSeconds *uint32 `json:"max_age_s,omitempty"`
}

func DefaultOptions() Options {
	return Options{Write: true}
}

// UnmarshalJSON applies defaults for omitted fields.
func (o *Options) UnmarshalJSON(data []byte) error {
	type plain Options
	opts := plain(DefaultOptions())
	if err := json.Unmarshal(data, &opts); err != nil {
		return err
	}
	*o = Options(opts)
	return nil
}
