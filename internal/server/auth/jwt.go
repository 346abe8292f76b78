// Package auth issues and validates the bearer tokens the portal agents
// present on every API call.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"clinsync/internal/common"
)

// Claims includes the registered claims plus the patient the token was
// issued to.
type Claims struct {
	jwt.RegisteredClaims
	PatientID string `json:"patient_id"`
}

// GenerateToken signs an HS256 token for patientID valid for
// validityDuration.
func GenerateToken(patientID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		PatientID: patientID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// GetPatientIDFromToken validates tokenString and extracts the patient ID.
// Expired tokens map to common.ErrTokenExpired, everything else invalid
// maps to common.ErrInvalidToken.
func GetPatientIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, common.ErrInvalidToken
		}
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", common.ErrInvalidToken
	}

	if !token.Valid {
		return "", common.ErrInvalidToken
	}

	return claims.PatientID, nil
}
