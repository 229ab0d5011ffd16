package notify

import "context"

// AccessEmail 是注册后发送的访问邮件内容。
type AccessEmail struct {
	To          string // 收件人
	Name        string // 称呼
	WorkshopURL string // workshop 入口
	SetupURL    string // 一次性设置密码链接（为空时不展示）
}

// Mailer 定义访问邮件的发送接口。
type Mailer interface {
	SendAccessEmail(ctx context.Context, msg AccessEmail) error
}
