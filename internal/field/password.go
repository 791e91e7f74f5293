package field

// PasswordChange is the input of the changePassword action.
type PasswordChange struct {
	OldPassword  string `json:"oldPassword"`
	NewPassword1 string `json:"newPassword1"`
	NewPassword2 string `json:"newPassword2"`
}

// Validate returns the per-field errors; an empty result means the change
// can be sent.
func (c PasswordChange) Validate(env *Env) Errors {
	errs := Errors{}
	required := env.t("dialog.databasePassword.fieldRequired", "Field is required")
	for name, v := range map[string]string{
		"oldPassword":  c.OldPassword,
		"newPassword1": c.NewPassword1,
		"newPassword2": c.NewPassword2,
	} {
		if v == "" {
			errs.Update(name, required)
		}
	}
	if c.NewPassword2 != "" && c.NewPassword1 != c.NewPassword2 {
		errs.Update("newPassword2", env.t("dialog.databasePassword.noMatch", "Passwords do not match"))
	}
	return errs
}

// Body is the request sent to the password sub-resource.
func (c PasswordChange) Body() map[string]string {
	return map[string]string{"current": c.OldPassword, "target": c.NewPassword1}
}
