package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Cipher はトークンの保存時暗号化を行う。
// AES-256-GCMを使用し、ナンスは暗号文の先頭に連結して保存する。
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher は32バイトの鍵からCipherを生成する。
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("暗号鍵は32バイトである必要があります: got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("AES暗号の初期化に失敗しました: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("GCMモードの初期化に失敗しました: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt は平文トークンを暗号化する。呼び出しごとに新しいナンスを使用する。
func (c *Cipher) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("ナンスの生成に失敗しました: %w", err)
	}

	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt は暗号化済みトークンを復号する。
func (c *Cipher) Decrypt(ciphertext []byte) (string, error) {
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("暗号文が短すぎます: %dバイト", len(ciphertext))
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("トークンの復号に失敗しました: %w", err)
	}

	return string(plaintext), nil
}
