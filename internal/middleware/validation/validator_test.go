package validation

import (
	"testing"

	"github.com/manual-qa/backend/internal/storage/models"
)

func TestValidateRunSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    models.RunSpec
		wantErr bool
	}{
		{name: "empty override", spec: models.RunSpec{}},
		{name: "typical override", spec: models.RunSpec{TopK: 10, LexicalAnswerThreshold: 0.65, SigmoidMode: "auto_topk"}},
		{name: "fixed mode with k", spec: models.RunSpec{SigmoidMode: "fixed", SigmoidK: 2.5, SigmoidX0: 1}},
		{name: "top_k too large", spec: models.RunSpec{TopK: 500}, wantErr: true},
		{name: "negative top_k", spec: models.RunSpec{TopK: -1}, wantErr: true},
		{name: "threshold above one", spec: models.RunSpec{LexicalAnswerThreshold: 1.5}, wantErr: true},
		{name: "negative vector threshold", spec: models.RunSpec{VectorAnswerThreshold: -0.1}, wantErr: true},
		{name: "fixed mode without k", spec: models.RunSpec{SigmoidMode: "fixed"}, wantErr: true},
		{name: "unknown mode", spec: models.RunSpec{SigmoidMode: "zscore"}, wantErr: true},
		{name: "limit_questions out of range", spec: models.RunSpec{LimitQuestions: 20000}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ValidateRunSpec(tt.spec)
			if (msg != "") != tt.wantErr {
				t.Errorf("ValidateRunSpec() = %q, wantErr %v", msg, tt.wantErr)
			}
		})
	}
}

func TestValidateRunSpecTopKMessage(t *testing.T) {
	// Zero means "use defaults" and is accepted, so the message names the
	// full accepted range.
	if msg := ValidateRunSpec(models.RunSpec{TopK: 0}); msg != "" {
		t.Errorf("unset top_k must be accepted, got %q", msg)
	}
	if msg := ValidateRunSpec(models.RunSpec{TopK: 300}); msg != "top_k must be between 0 and 200" {
		t.Errorf("message = %q", msg)
	}
}
