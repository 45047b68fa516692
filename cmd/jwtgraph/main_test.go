package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/mirror-media/jwtgraph/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCmd(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix(), "sub": "42"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"decode", tok})
	require.NoError(t, root.Execute())

	var got struct {
		Token     string                 `json:"token"`
		ExpiresAt time.Time              `json:"expiresAt"`
		Claims    map[string]interface{} `json:"claims"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, tok, got.Token)
	assert.True(t, exp.Equal(got.ExpiresAt))
	assert.Equal(t, "42", got.Claims["sub"])
}

func TestDecodeCmd_Invalid(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"decode", "not-a-token"})
	assert.Error(t, root.Execute())
}

func TestLoadConf(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `domain: hasura.example.com
accesstoken: from-file
tokenstore: redis
redisservice:
  type: single
  addresses:
    - addr: 127.0.0.1
      port: 6379
  cache:
    ttl: 120
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("JWTGRAPH_ACCESSTOKEN", "from-env")

	got, err := loadConf(path)
	require.NoError(t, err)
	assert.Equal(t, "hasura.example.com", got.Domain)
	assert.Equal(t, "from-env", got.AccessToken)
	assert.Equal(t, "https", got.Scheme)
	assert.Equal(t, 30, got.Timeout)
	assert.Equal(t, config.StoreRedis, got.TokenStore)
	assert.Equal(t, []config.RedisAddress{{Addr: "127.0.0.1", Port: 6379}}, got.RedisService.Addresses)
	assert.Equal(t, 120, got.RedisService.Cache.TTL)
	assert.NoError(t, got.Validate())
}

func TestLoadConf_MissingExplicitFile(t *testing.T) {
	_, err := loadConf(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
