package prompt

import (
	"github.com/marmos91/gorods/pkg/account"
)

// Account fills an account interactively, offering the fields of defaults.
// The password is requested only when askPassword is set.
func Account(defaults account.Account, askPassword bool) (account.Account, error) {
	port := defaults.Port
	if port == 0 {
		port = account.DefaultPort
	}

	host, err := Input("Host", defaults.Host)
	if err != nil {
		return account.Account{}, err
	}
	if port, err = Port("Port", port); err != nil {
		return account.Account{}, err
	}
	zone, err := Input("Zone", defaults.Zone)
	if err != nil {
		return account.Account{}, err
	}
	user, err := Input("User", defaults.User)
	if err != nil {
		return account.Account{}, err
	}

	acct := account.New(host, port, zone, user, defaults.Password)
	if defaults.AuthScheme != "" {
		acct.AuthScheme = defaults.AuthScheme
	}
	acct.DefaultResource = defaults.DefaultResource

	if askPassword {
		pw, err := Password("Password")
		if err != nil {
			return account.Account{}, err
		}
		acct = acct.WithPassword(pw)
	}
	return acct, nil
}
