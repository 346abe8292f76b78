package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinsync/internal/common"
)

func TestGenerateAndParseToken(t *testing.T) {
	secret := []byte("test-secret")

	token, err := GenerateToken("pat-42", secret, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	patientID, err := GetPatientIDFromToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "pat-42", patientID)
}

func TestGetPatientIDFromToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken("pat-42", []byte("right"), time.Minute)
	require.NoError(t, err)

	_, err = GetPatientIDFromToken(token, []byte("wrong"))
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestGetPatientIDFromToken_Expired(t *testing.T) {
	secret := []byte("test-secret")
	token, err := GenerateToken("pat-42", secret, -time.Minute)
	require.NoError(t, err)

	_, err = GetPatientIDFromToken(token, secret)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestGetPatientIDFromToken_Garbage(t *testing.T) {
	_, err := GetPatientIDFromToken("not.a.token", []byte("secret"))
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}
