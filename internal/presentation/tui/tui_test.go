package tui_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/aretw0/formtree/internal/presentation/tui"
	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/validation"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport(t *testing.T) {
	tests := []struct {
		name string
		res  validation.Result
		want []string
	}{
		{
			name: "valid",
			res:  validation.Result{Issues: []domain.Issue{}, IsValid: true},
			want: []string{"valid\n"},
		},
		{
			name: "warnings",
			res: validation.Result{
				Issues:      []domain.Issue{{Path: "node:s", Field: "price", Message: "Price is low", Severity: domain.SeverityWarning}},
				IsValid:     true,
				HasWarnings: true,
			},
			want: []string{"warning node:s.price: Price is low\n", "valid with 1 warnings\n"},
		},
		{
			name: "errors",
			res: validation.Result{
				Issues: []domain.Issue{{Path: "form", Field: "name", Message: "Form name is required", Severity: domain.SeverityError}},
			},
			want: []string{"error   form.name: Form name is required\n", "invalid: 1 errors, 0 warnings\n"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tui.Report(&buf, tt.res, termenv.Ascii)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestRenderer(t *testing.T) {
	render, err := tui.NewRenderer(40)
	require.NoError(t, err)
	out, err := render("# Salon\n\n- Cut\n")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "Salon"))
	assert.True(t, strings.Contains(out, "Cut"))
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	tui.PrintBanner(&buf, "1.2.3\n")
	assert.Contains(t, buf.String(), "v1.2.3")
}
