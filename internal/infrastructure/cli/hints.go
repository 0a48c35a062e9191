package cli

import (
	"errors"

	"github.com/doeshing/sysadvisor/internal/domain"
)

// Hint suggests a remediation for fatal errors.
func Hint(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrEmptyQuery):
		return `ask a question, e.g. sysadvisor "why is the disk full"`
	case errors.Is(err, domain.ErrModelNotInstalled):
		return "download it with `sysadvisor models pull` (or `ollama pull <model>`)"
	case errors.Is(err, domain.ErrModelUnavailable):
		return "start the model server (`ollama serve`) or point OLLAMA_BASE_URL at it; `sysadvisor doctor` checks the setup"
	case errors.Is(err, domain.ErrModelNotFound):
		return "list configured models with `sysadvisor models list`"
	case errors.Is(err, domain.ErrShellUnavailable):
		return "set execution.shell or SYSADVISOR_SHELL to an installed POSIX shell"
	case errors.Is(err, domain.ErrRecordNotFound):
		return "list stored runs with `sysadvisor history list`"
	default:
		return ""
	}
}
