// Package commands implements the Command Interpreter (C19): parses
// operator chat commands with a total grammar (malformed input always
// yields UNKNOWN, never an error) and role-based authorization.
// Grounded on notification_service.go's StartEventListener command
// switch (/status, /start, /stop, /report), generalized to the fuller
// grammar and a first-class Role/Scope model instead of a bare string
// switch.
package commands

import (
	"strings"

	"github.com/sentineldesk/core/internal/model"
)

// FeatureFlags gates commands whose corresponding feature must be
// enabled in configuration before they are authorized.
type FeatureFlags struct {
	StealthEnabled bool
	ReplayEnabled  bool
}

// RoleResolver maps a chat user ID to their authorization role.
type RoleResolver interface {
	Resolve(userID string) model.Role
}

// StaticRoleResolver is a fixed admin allowlist, the simplest
// implementation and the default for single-operator deployments.
type StaticRoleResolver struct {
	Admins map[string]bool
}

func (s StaticRoleResolver) Resolve(userID string) model.Role {
	if s.Admins[userID] {
		return model.RoleAdmin
	}
	return model.RoleUser
}

// Interpreter parses raw chat text into a model.Command and enforces
// authorization + bounded per-user history.
type Interpreter struct {
	roles        RoleResolver
	flags        FeatureFlags
	maxHistory   int

	history map[string][]model.Command
}

func New(roles RoleResolver, flags FeatureFlags, maxHistory int) *Interpreter {
	if maxHistory <= 0 {
		maxHistory = 50
	}
	return &Interpreter{roles: roles, flags: flags, maxHistory: maxHistory, history: map[string][]model.Command{}}
}

// Parse tokenizes rawText case-insensitively; unrecognized verbs or
// malformed arguments always produce CmdUnknown rather than an error —
// the grammar is total by construction.
func (i *Interpreter) Parse(userID, rawText string) model.Command {
	role := model.RoleUser
	if i.roles != nil {
		role = i.roles.Resolve(userID)
	}

	cmd := model.Command{RawText: rawText, UserID: userID, Role: role, Kind: model.CmdUnknown}

	fields := strings.Fields(strings.TrimSpace(rawText))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		i.record(userID, cmd)
		return cmd
	}
	verb := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	args := fields[1:]

	switch verb {
	case "status":
		cmd.Kind = model.CmdStatus
		if len(args) > 0 {
			cmd.Scope, cmd.Target = scopeFromArg(args[0])
		}
	case "replay":
		cmd.Kind = model.CmdReplay
		if len(args) >= 1 {
			cmd.Scope = model.ScopeSymbol
			cmd.Target = strings.ToUpper(args[0])
		}
		if len(args) >= 2 {
			cmd.Params = args[1:2]
		}
	case "stealth":
		cmd.Kind = model.CmdStealth
		if len(args) >= 1 {
			cmd.Params = []string{strings.ToLower(args[0])}
		} else {
			cmd.Kind = model.CmdUnknown
		}
	case "enable":
		cmd.Kind = model.CmdEnable
		if len(args) >= 1 {
			cmd.Scope, cmd.Target = scopeFromArg(args[0])
		} else {
			cmd.Kind = model.CmdUnknown
		}
	case "disable":
		cmd.Kind = model.CmdDisable
		if len(args) >= 1 {
			cmd.Scope, cmd.Target = scopeFromArg(args[0])
		} else {
			cmd.Kind = model.CmdUnknown
		}
	case "set":
		if len(args) >= 3 {
			cmd.Kind = model.CmdSet
			cmd.Target = args[0]
			cmd.Params = args[1:]
		}
	case "get":
		if len(args) >= 1 {
			cmd.Kind = model.CmdGet
			cmd.Target = args[0]
			cmd.Params = args[1:]
		}
	case "pause":
		cmd.Kind = model.CmdPause
	case "resume":
		cmd.Kind = model.CmdResume
	case "help":
		cmd.Kind = model.CmdHelp
		if len(args) >= 1 {
			cmd.Params = args[:1]
		}
	}

	i.record(userID, cmd)
	return cmd
}

func scopeFromArg(arg string) (model.CommandScope, string) {
	upper := strings.ToUpper(arg)
	if upper == "ALL" {
		return model.ScopeGlobal, "ALL"
	}
	// Every target other than ALL is parsed as a symbol scope; provider
	// targets are not told apart here. The command dispatcher downstream
	// owns the authoritative lookup; this only shapes the parsed Command.
	return model.ScopeSymbol, upper
}

// AuthorizationResult is Authorize's verdict.
type AuthorizationResult string

const (
	Authorized            AuthorizationResult = "AUTHORIZED"
	DeniedRole            AuthorizationResult = "DENIED_ROLE"
	DeniedFeatureDisabled AuthorizationResult = "DENIED_FEATURE_DISABLED"
)

// Authorize checks cmd against role and feature-flag requirements.
// SET requires ADMIN; STEALTH and REPLAY require their feature flag;
// everything else defaults to USER-level access.
func (i *Interpreter) Authorize(cmd model.Command) AuthorizationResult {
	if cmd.Kind == model.CmdSet && cmd.Role != model.RoleAdmin {
		return DeniedRole
	}
	if cmd.Kind == model.CmdStealth && !i.flags.StealthEnabled {
		return DeniedFeatureDisabled
	}
	if cmd.Kind == model.CmdReplay && !i.flags.ReplayEnabled {
		return DeniedFeatureDisabled
	}
	return Authorized
}

func (i *Interpreter) record(userID string, cmd model.Command) {
	hist := append(i.history[userID], cmd)
	if len(hist) > i.maxHistory {
		hist = hist[len(hist)-i.maxHistory:]
	}
	i.history[userID] = hist
}

// History returns userID's command history, oldest first.
func (i *Interpreter) History(userID string) []model.Command {
	return append([]model.Command(nil), i.history[userID]...)
}
