package codec

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"USync/module/update/model"
)

// Codec 更新记录的落盘编解码：JSON 信封 + ChaCha20-Poly1305。
// AAD 绑定 bucket key，密文搬到别的桶解不开。
// key 为空时明文存储（仅限本地开发/测试）。
type Codec struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

func New(key []byte) (*Codec, error) {
	if len(key) == 0 {
		return &Codec{}, nil
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("codec key: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encode stored -> 加密字节。输出布局：nonce || ciphertext。
func (c *Codec) Encode(bucketKey string, s *model.Stored) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("nil stored update")
	}
	if s.V == 0 {
		s.V = model.StoredVersion
	}
	plain, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	if c.aead == nil {
		return plain, nil
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := c.aead.Seal(nonce, nonce, plain, []byte(bucketKey))
	return out, nil
}

// Decode 加密字节 -> stored。未知 kind 不报错，照常解出信封，
// 由调用方按 Known() 判定是否可展开。
func (c *Codec) Decode(bucketKey string, payload []byte) (*model.Stored, error) {
	plain := payload
	if c.aead != nil {
		if len(payload) < chacha20poly1305.NonceSize {
			return nil, fmt.Errorf("payload too short: %d", len(payload))
		}
		nonce, ct := payload[:chacha20poly1305.NonceSize], payload[chacha20poly1305.NonceSize:]
		var err error
		plain, err = c.aead.Open(nil, nonce, ct, []byte(bucketKey))
		if err != nil {
			return nil, fmt.Errorf("open record: %w", err)
		}
	}
	var s model.Stored
	if err := json.Unmarshal(plain, &s); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &s, nil
}
