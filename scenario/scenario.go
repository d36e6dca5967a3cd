// Package scenario defines the functional test that is run in every remote session, and the
// executor that runs it.
package scenario

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/cloudbees/browser-matrix-tests/webdriver"
)

// DefaultDepositURL is the page that the mobile deposit scenario checks.
const DefaultDepositURL = "http://mobile-deposit-ui-mobile-test.e611.cloudbees.openshiftapps.com/mobile-deposit-ui-1.0-SNAPSHOT/deposit"

// MaskedAccountNumberPattern matches an account number in which only the last four digits are
// shown.
var MaskedAccountNumberPattern = regexp.MustCompile(`^([^\d]*)([\d]{4})$`)

// Spec is the scenario to run: load a page, then verify some elements on it.
type Spec struct {
	// Name identifies the scenario in run labels, e.g. "hasAnAccountNumber".
	Name   string
	URL    string
	Checks []Check
	// ElementWait is how long to keep retrying a lookup for an element that is not there yet.
	// Zero means look once.
	ElementWait time.Duration
}

// Check verifies one element. The element must be present; if TextPattern is set, its text
// must also match.
type Check struct {
	Description string
	By          webdriver.By
	TextPattern *regexp.Regexp
}

// AccountNumberPresent is the check that the deposit page shows an account number.
func AccountNumberPresent() Check {
	return Check{
		Description: "page has an account number",
		By:          webdriver.ByClassName("account-number"),
	}
}

// AccountNumberMasked is the check that the account number shows no more than four digits.
func AccountNumberMasked() Check {
	return Check{
		Description: "account number must end with and only contain 4 digits",
		By:          webdriver.ByClassName("account-number"),
		TextPattern: MaskedAccountNumberPattern,
	}
}

// Default returns the mobile deposit scenario for the given page URL.
func Default(url string) Spec {
	if url == "" {
		url = DefaultDepositURL
	}
	return Spec{
		Name:   "hasAnAccountNumber",
		URL:    url,
		Checks: []Check{AccountNumberPresent()},
	}
}

func (s Spec) Validate() error {
	if s.Name == "" {
		return errors.New("scenario name is required")
	}
	if s.URL == "" {
		return errors.New("scenario URL is required")
	}
	for i, c := range s.Checks {
		if c.By.Using == "" || c.By.Value == "" {
			return fmt.Errorf("check %d (%s) has no locator", i+1, c.Description)
		}
	}
	return nil
}
