package config

import "errors"

var errTLSPair = errors.New("config: TLS_CERT_FILE and TLS_KEY_FILE must be set together")
