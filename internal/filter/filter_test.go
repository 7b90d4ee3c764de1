package filter

import (
	"errors"
	"testing"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"
)

func TestCheckAllowsSafePrompts(t *testing.T) {
	safe := []string{
		"a red fox in the snow",
		"futuristic city skyline at dusk",
		"watercolor painting of mountains",
		"",
	}
	for _, prompt := range safe {
		if err := Check(prompt); err != nil {
			t.Errorf("Check(%q) = %v, want nil", prompt, err)
		}
	}
}

func TestCheckBlocksKeywords(t *testing.T) {
	blocked := []string{
		"a nude figure",
		"NSFW content please",
		"gruesome battle scene",
		"racist caricature",
	}
	for _, prompt := range blocked {
		err := Check(prompt)
		if !errors.Is(err, types.ErrPromptRejected) {
			t.Errorf("Check(%q) = %v, want ErrPromptRejected", prompt, err)
		}
	}
}

func TestCheckDefeatsEvasion(t *testing.T) {
	evasions := []string{
		"n u d e figure",
		"n-u-d-e figure",
		"n_u_d_e figure",
		"n.u.d.e figure",
		"nud3 figure",
		"N4KED person",
		"nüde figure",
		"éxplicit scene",
	}
	for _, prompt := range evasions {
		err := Check(prompt)
		if !errors.Is(err, types.ErrPromptRejected) {
			t.Errorf("Check(%q) = %v, want ErrPromptRejected", prompt, err)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Hello World": "helloworld",
		"n-u-d-e":     "nude",
		"nud3":        "nude",
		"c4f3":        "cafe",
		"nüde":        "nude",
	}
	for in, want := range cases {
		if got := normalize(in); got != want {
			t.Errorf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
