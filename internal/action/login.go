package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/pagerun/internal/faults"
)

const defaultLoginTimeout = 30 * time.Second

func init() {
	Registry.Register("login", newLogin)
}

// Login fills a sign-in form with the page's credentials and waits for a
// success condition. A page-supplied form_script replaces the selector based
// fill; it sees the credentials as the object `creds`.
type Login struct {
	base
	userSelector   string
	passSelector   string
	submitSelector string
	formScript     string
	success        string
	timeout        time.Duration
}

func newLogin(opts Options) (Action, error) {
	timeout, err := opts.Seconds("timeout", defaultLoginTimeout)
	if err != nil {
		return nil, err
	}
	a := &Login{
		base:           newBase("login", opts),
		userSelector:   opts.String("username_selector", "input[type=email],input[name=username]"),
		passSelector:   opts.String("password_selector", "input[type=password]"),
		submitSelector: opts.String("submit_selector", "[type=submit]"),
		formScript:     opts.String("form_script", ""),
		success:        opts.String("success", ""),
		timeout:        timeout,
	}
	if a.success == "" {
		return nil, errors.New("login needs a success expression")
	}
	return a, nil
}

func (a *Login) RunAction(ctx context.Context, page *Page, tab Tab, prev Action) error {
	user, pass := page.Credentials["username"], page.Credentials["password"]
	if user == "" && pass == "" {
		return faults.Login(fmt.Sprintf("page %q has no credentials", page.DisplayName()), nil)
	}

	script, err := a.script(user, pass)
	if err != nil {
		return err
	}
	res, err := tab.EvaluateScript(ctx, script, a.timeout)
	if err != nil {
		return loginFault("fill form", err)
	}
	var ok bool
	if json.Unmarshal(res, &ok) == nil && !ok {
		return faults.Login("login form not found", nil)
	}

	if err := tab.WaitForExpression(ctx, a.success, a.timeout); err != nil {
		return loginFault("wait for success", err)
	}
	slog.Debug("action login done", "page", page.DisplayName())
	return nil
}

func (a *Login) script(user, pass string) (string, error) {
	creds, err := json.Marshal(map[string]string{"username": user, "password": pass})
	if err != nil {
		return "", err
	}
	if a.formScript != "" {
		return fmt.Sprintf("(function(creds){ %s })(%s)", a.formScript, creds), nil
	}
	sel, err := json.Marshal([]string{a.userSelector, a.passSelector, a.submitSelector})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(function(creds, sel){
  const u = document.querySelector(sel[0]);
  const p = document.querySelector(sel[1]);
  if (!u || !p) return false;
  const set = (el, v) => { el.value = v; el.dispatchEvent(new Event('input', {bubbles: true})); };
  set(u, creds.username);
  set(p, creds.password);
  const s = document.querySelector(sel[2]);
  if (s) { s.click(); } else if (p.form) { p.form.submit(); }
  return true;
})(%s, %s)`, creds, sel), nil
}

// loginFault wraps err as a Login failure. Fatal faults pass through so the
// runner still sees a dead tab.
func loginFault(step string, err error) error {
	if faults.Fatal(err) {
		return err
	}
	return faults.Login(fmt.Sprintf("login %s", step), err)
}
