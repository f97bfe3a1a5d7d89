package portal

import "context"

// Login types the page form switches between.
const (
	LoginVoucher = "voucher"
	LoginMember  = "member"
	LoginCheck   = "check"
)

// Action is an instruction for the page's login form.
type Action struct {
	// Type is "submit" or "check".
	Type      string `json:"type"`
	LoginType string `json:"login_type"`
	Voucher   string `json:"voucher,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	Code      string `json:"code,omitempty"`
}

// FormFunc delivers form actions to the page. It implements
// qrauth.LoginForm.
type FormFunc func(ctx context.Context, action Action) error

// SubmitVoucher fills the voucher field and submits.
func (f FormFunc) SubmitVoucher(ctx context.Context, code string) error {
	return f(ctx, Action{Type: "submit", LoginType: LoginVoucher, Voucher: code})
}

// SubmitMember fills username and password and submits.
func (f FormFunc) SubmitMember(ctx context.Context, username, password string) error {
	return f(ctx, Action{Type: "submit", LoginType: LoginMember, Username: username, Password: password})
}

// CheckVoucher switches to the check tab with code filled in and runs the check.
func (f FormFunc) CheckVoucher(ctx context.Context, code string) error {
	return f(ctx, Action{Type: "check", LoginType: LoginCheck, Code: code})
}
