package cmd

import (
	"fmt"
	"os"

	"github.com/TheStatisticalMind/site-deployer/tools/deployer/pkg/deployer"
	"github.com/rotisserie/eris"
	"golang.org/x/term"
)

// resolvePassword prompts for the target password when asked to, or when
// the target has no credentials and stdin is a terminal.
func resolvePassword(cfg *deployer.Config, ask bool) error {
	fd := int(os.Stdin.Fd())
	interactive := term.IsTerminal(fd)
	if !ask && !(cfg.Target.NeedsPassword() && interactive) {
		return nil
	}
	if !interactive {
		return eris.New("cannot prompt for a password: stdin is not a terminal")
	}

	fmt.Fprintf(os.Stderr, "Password for %s: ", cfg.Target.Description())
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return eris.Wrap(err, "failed to read password")
	}
	cfg.Target.SetPassword(string(password))
	return nil
}
