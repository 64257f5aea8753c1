package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json.enc")
	secrets := map[string]string{
		"ANTHROPIC_API_KEY": "sk-ant-test",
		"OPENAI_API_KEY":    "sk-oai-test",
	}

	require.NoError(t, SaveSecretsFile(path, "passphrase", secrets))

	SetDecryptedSecrets(nil)
	require.NoError(t, LoadSecretsFile(path, "passphrase"))
	defer SetDecryptedSecrets(nil)

	key, err := GetSecret("ANTHROPIC_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", key)
}

func TestSecretsWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json.enc")
	require.NoError(t, SaveSecretsFile(path, "right", map[string]string{"K": "v"}))

	err := LoadSecretsFile(path, "wrong")
	assert.Error(t, err)
}

func TestSecretsMissingFileIsNotAnError(t *testing.T) {
	assert.NoError(t, LoadSecretsFile(filepath.Join(t.TempDir(), "nope.enc"), "pw"))
}

func TestGetSecretEnvFallback(t *testing.T) {
	SetDecryptedSecrets(nil)
	t.Setenv("MODGEN_TEST_SECRET", "from-env")

	value, err := GetSecret("MODGEN_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env", value)

	_, err = GetSecret("MODGEN_TEST_SECRET_MISSING")
	assert.Error(t, err)
}

func TestSecretsFilePrecedenceOverEnv(t *testing.T) {
	t.Setenv("SHADOWED_KEY", "from-env")
	SetDecryptedSecrets(map[string]string{"SHADOWED_KEY": "from-file"})
	defer SetDecryptedSecrets(nil)

	value, err := GetSecret("SHADOWED_KEY")
	require.NoError(t, err)
	assert.Equal(t, "from-file", value)
}
