package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"aidanwoods.dev/go-paseto"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// ErrInvalidToken はトークンの形式不正・改ざん・鍵不一致を表す。
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims はセッショントークンに格納する本人情報。
type Claims struct {
	UserID    string
	Email     string
	Name      string
	PhotoURL  string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec はClaimsとトークン文字列の相互変換を行う。
// 有効期限の判定は呼び出し側（SessionAuthority）で行う。
type TokenCodec interface {
	Encode(c Claims) (string, error)
	Decode(token string) (*Claims, error)
}

// 鍵導出に使うHKDFのinfo。トークン形式ごとに別の鍵になる。
const (
	pasetoKeyInfo = "eventgarden session v4.local"
	jwtKeyInfo    = "eventgarden session hs256"
)

// deriveKey はSESSION_SECRETからHKDF-SHA256で32バイトの鍵を導出する。
func deriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// NewTokenCodec はformat（"paseto" または "jwt"）に対応するTokenCodecを生成する。
func NewTokenCodec(format, secret string) (TokenCodec, error) {
	switch format {
	case "paseto":
		return NewPasetoCodec(secret)
	case "jwt":
		return NewJWTCodec(secret)
	default:
		return nil, fmt.Errorf("unsupported token format: %q", format)
	}
}

// PasetoCodec はPASETO v4.local（XChaCha20-Poly1305による対称暗号）のTokenCodec。
type PasetoCodec struct {
	key paseto.V4SymmetricKey
}

// NewPasetoCodec はPasetoCodecを生成する。
func NewPasetoCodec(secret string) (*PasetoCodec, error) {
	raw, err := deriveKey(secret, pasetoKeyInfo)
	if err != nil {
		return nil, err
	}
	key, err := paseto.V4SymmetricKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create symmetric key: %w", err)
	}
	return &PasetoCodec{key: key}, nil
}

// Encode はClaimsを暗号化したトークンを返す。
func (c *PasetoCodec) Encode(claims Claims) (string, error) {
	token := paseto.NewToken()
	token.SetJti(claims.TokenID)
	token.SetIssuedAt(claims.IssuedAt)
	token.SetExpiration(claims.ExpiresAt)
	token.SetString("uid", claims.UserID)
	token.SetString("email", claims.Email)
	token.SetString("name", claims.Name)
	token.SetString("photoUrl", claims.PhotoURL)

	return token.V4Encrypt(c.key, nil), nil
}

// Decode はトークンを復号してClaimsを返す。
func (c *PasetoCodec) Decode(tokenStr string) (*Claims, error) {
	parser := paseto.NewParserWithoutExpiryCheck()

	token, err := parser.ParseV4Local(c.key, tokenStr, nil)
	if err != nil {
		return nil, ErrInvalidToken
	}

	var claims Claims
	if claims.TokenID, err = token.GetJti(); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.UserID, err = token.GetString("uid"); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Email, err = token.GetString("email"); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.IssuedAt, err = token.GetIssuedAt(); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt, err = token.GetExpiration(); err != nil {
		return nil, ErrInvalidToken
	}
	// 名前と画像URLは空でも許容する
	claims.Name, _ = token.GetString("name")
	claims.PhotoURL, _ = token.GetString("photoUrl")

	return &claims, nil
}

// jwtClaims はJWTのペイロード。
type jwtClaims struct {
	UserID   string `json:"uid"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	PhotoURL string `json:"photoUrl,omitempty"`
	jwt.RegisteredClaims
}

// JWTCodec はHS256署名のJWTを扱うTokenCodec。
type JWTCodec struct {
	key []byte
}

// NewJWTCodec はJWTCodecを生成する。
func NewJWTCodec(secret string) (*JWTCodec, error) {
	key, err := deriveKey(secret, jwtKeyInfo)
	if err != nil {
		return nil, err
	}
	return &JWTCodec{key: key}, nil
}

// Encode はClaimsに署名したJWTを返す。
func (c *JWTCodec) Encode(claims Claims) (string, error) {
	payload := jwtClaims{
		UserID:   claims.UserID,
		Email:    claims.Email,
		Name:     claims.Name,
		PhotoURL: claims.PhotoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        claims.TokenID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Decode は署名を検証してClaimsを返す。
func (c *JWTCodec) Decode(tokenStr string) (*Claims, error) {
	var payload jwtClaims
	token, err := jwt.ParseWithClaims(tokenStr, &payload, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if payload.UserID == "" || payload.ID == "" || payload.ExpiresAt == nil || payload.IssuedAt == nil {
		return nil, ErrInvalidToken
	}

	return &Claims{
		UserID:    payload.UserID,
		Email:     payload.Email,
		Name:      payload.Name,
		PhotoURL:  payload.PhotoURL,
		TokenID:   payload.ID,
		IssuedAt:  payload.IssuedAt.Time,
		ExpiresAt: payload.ExpiresAt.Time,
	}, nil
}
