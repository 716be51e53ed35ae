package contacts

// Profile is the contact metadata carried on a conversation. There is no
// standalone contact record; the gateway denormalizes these fields onto the
// conversation and PATCHes them through the conversation resource.
type Profile struct {
	DisplayName  string
	Email        string
	JobTitle     string
	Organization string
}

// Edit is a partial profile update. Nil fields leave the stored value
// untouched; pointers to empty strings clear it.
type Edit struct {
	DisplayName  *string
	Email        *string
	JobTitle     *string
	Organization *string
}

// Empty reports whether the edit changes nothing.
func (e Edit) Empty() bool {
	return e.DisplayName == nil && e.Email == nil && e.JobTitle == nil && e.Organization == nil
}
