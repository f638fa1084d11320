// Package security はアプリケーションのセキュリティ機能を提供する。
//
// EventSanitizerService は外部カレンダーから取得したイベントのテキスト
// （タイトル等）をサニタイズする。リモートカレンダーの内容は信頼できない
// 入力として扱い、bluemondayのStrictPolicyで全HTMLタグを除去して
// プレーンテキストのみを保存する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// EventSanitizerService はイベントテキストのサニタイズ機能のインターフェースを定義する。
// 同期エンジンがリモートイベントをローカルミラーに保存する前に使用する。
type EventSanitizerService interface {
	// Sanitize はイベントタイトル等のテキストから全HTMLタグを除去し、
	// 前後の空白をトリムして返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// eventSanitizer はEventSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type eventSanitizer struct {
	policy *bluemonday.Policy
}

// NewEventSanitizer はEventSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicy（全タグ除去）を使用する。カレンダーイベントのタイトルに
// HTML装飾を残す理由はなく、表示側・音声読み上げ側の双方で
// プレーンテキストのみを前提にできる。
func NewEventSanitizer() *eventSanitizer {
	return &eventSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はテキストから全HTMLタグを除去し、前後の空白をトリムして返す。
func (s *eventSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
