package model

import "time"

// Organization は規約を公開するプロバイダー（テナント）を表す。
// BROKER_SLUGで指定された組織がサイト運営者（ブローカー）となる。
type Organization struct {
	ID            string
	Slug          string
	FullName      string
	Email         string
	Phone         string
	StreetAddress string
	Locality      string
	Region        string
	PostalCode    string
	Country       string
	IsProvider    bool
	CreatedAt     time.Time
}

// PrintableName は表示用の組織名を返す。FullNameが空の場合はスラッグを返す。
func (o *Organization) PrintableName() string {
	if o.FullName != "" {
		return o.FullName
	}
	return o.Slug
}
