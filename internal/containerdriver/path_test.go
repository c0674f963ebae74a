package containerdriver

import "testing"

func TestValidatePathAcceptsSafeCharacters(t *testing.T) {
	for _, p := range []string{"/tmp/out.json", "/app/data-1_2.csv", "relative/path"} {
		if err := ValidatePath(p); err != nil {
			t.Errorf("expected %q to be safe, got %v", p, err)
		}
	}
}

func TestValidatePathRejectsShellMetacharacters(t *testing.T) {
	for _, p := range []string{"/tmp/a b", "/tmp/a;rm -rf /", "/tmp/$HOME", "/tmp/`whoami`", "/tmp/a|b", "path with space"} {
		if err := ValidatePath(p); err == nil {
			t.Errorf("expected %q to be rejected", p)
		}
	}
}
