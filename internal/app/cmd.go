package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は空き時間API・同期トリガーAPIを提供するサーバーモード。
	CommandServe Command = "serve"
	// CommandWorker は同期スケジューラーとイベントクリーンアップを実行するワーカーモード。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベーススキーマのマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のAPIサーバーに対するヘルスチェック。
	// シェルを持たないdistrolessコンテナのHEALTHCHECKから呼ばれる。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
