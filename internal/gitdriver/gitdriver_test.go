package gitdriver

import "testing"

func TestSanitizeRepoName(t *testing.T) {
	cases := map[string]string{
		"https://github.com/user/My-Repo.git": "my-repo",
		"git@github.com:user/Another_Repo.git": "another-repo",
		"https://gitlab.com/org/repo":          "repo",
		"https://github.com/org/Weird..Name!!": "weird-name",
	}
	for in, want := range cases {
		if got := SanitizeRepoName(in); got != want {
			t.Errorf("SanitizeRepoName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateURLRejectsDangerousCharacters(t *testing.T) {
	d := New("/workspace", []string{"github.com"}, "")
	dangerous := []string{
		"https://github.com/u/r.git;rm -rf /",
		"https://github.com/u/r.git | cat /etc/passwd",
		"https://github.com/u/r.git && whoami",
		"https://github.com/u/r.git`whoami`",
		"https://github.com/u/r.git$(whoami)",
	}
	for _, url := range dangerous {
		if err := d.ValidateURL(url); err == nil {
			t.Errorf("expected error for dangerous URL %q", url)
		}
	}
}

func TestValidateURLEnforcesAllowlist(t *testing.T) {
	d := New("/workspace", []string{"github.com"}, "")
	if err := d.ValidateURL("https://evil.example.com/u/r.git"); err == nil {
		t.Error("expected error for disallowed host")
	}
	if err := d.ValidateURL("https://github.com/u/r.git"); err != nil {
		t.Errorf("unexpected error for allowed host: %v", err)
	}
}

func TestValidateURLAcceptsSSHForm(t *testing.T) {
	d := New("/workspace", []string{"github.com"}, "")
	if err := d.ValidateURL("git@github.com:user/repo.git"); err != nil {
		t.Errorf("unexpected error for SSH-form URL: %v", err)
	}
}

func TestExtractHost(t *testing.T) {
	cases := map[string]string{
		"https://github.com/u/r.git":  "github.com",
		"git@github.com:u/r.git":      "github.com",
		"http://gitlab.com/u/r":       "gitlab.com",
		"ssh://git@bitbucket.org/u/r": "bitbucket.org",
	}
	for in, want := range cases {
		if got := extractHost(in); got != want {
			t.Errorf("extractHost(%q) = %q, want %q", in, got, want)
		}
	}
}
