package openai

import "time"

// Config contains transport settings shared by both backends.
//   - HTTPTimeout: whole-request timeout of the raw client, and
//     option.WithRequestTimeout() for the SDK backend. Zero means none.
type Config struct {
	HTTPTimeout time.Duration `env:"API_HTTP_TIMEOUT" envDefault:"0s"`
}
