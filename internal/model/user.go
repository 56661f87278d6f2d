package model

import "time"

// User はサービス利用ユーザーを表す。
// ユーザーの登録・認証は周辺サイトが担い、本サービスは参照のみ行う。
type User struct {
	ID        string
	Username  string
	Email     string
	FullName  string
	CreatedAt time.Time
}

// DisplayName は表示用のユーザー名を返す。
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
