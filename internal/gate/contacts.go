package gate

import "github.com/teemow/mailgate/internal/confirm"

// ContactFields are the editable attributes of a contact.
type ContactFields struct {
	DisplayName   string
	Email         string
	CompanyName   string
	MobilePhone   string
	BusinessPhone string
}

func (c ContactFields) fields() []Field {
	return []Field{
		{Name: "displayName", Value: c.DisplayName},
		{Name: "email", Value: c.Email, Kind: FieldAddress},
		{Name: "companyName", Value: c.CompanyName},
		{Name: "mobilePhone", Value: c.MobilePhone},
		{Name: "businessPhone", Value: c.BusinessPhone},
	}
}

func (c ContactFields) lines() []confirm.Line {
	return lines(
		"Name", c.DisplayName,
		"Email", c.Email,
		"Company", c.CompanyName,
		"Mobile", c.MobilePhone,
		"Business phone", c.BusinessPhone,
	)
}

func (c ContactFields) empty() bool {
	return c == ContactFields{}
}

// CreateContact adds a contact to the default address book.
type CreateContact struct {
	ContactFields
}

func (a CreateContact) Type() ActionType { return ActionCreateContact }

func (a CreateContact) Fields() []Field { return a.fields() }

func (a CreateContact) Validate() error {
	if err := required("displayName", a.DisplayName); err != nil {
		return err
	}
	if err := required("email", a.Email); err != nil {
		return err
	}
	return validateAddresses([]string{a.Email})
}

func (a CreateContact) Display() confirm.Display {
	return confirm.Display{Title: "Create contact", Lines: a.lines()}
}

func (a CreateContact) RequiredScopes() []string { return []string{ScopeContacts} }

// UpdateContact changes the non-empty attributes of contact ID.
type UpdateContact struct {
	ID string
	ContactFields
}

func (a UpdateContact) Type() ActionType { return ActionUpdateContact }

func (a UpdateContact) Fields() []Field {
	return append([]Field{{Name: "id", Value: a.ID}}, a.fields()...)
}

func (a UpdateContact) Validate() error {
	if err := required("id", a.ID); err != nil {
		return err
	}
	if a.ContactFields.empty() {
		return invalid("nothing to update")
	}
	if a.Email != "" {
		return validateAddresses([]string{a.Email})
	}
	return nil
}

func (a UpdateContact) Display() confirm.Display {
	return confirm.Display{
		Title: "Update contact",
		Lines: append(lines("Contact", a.ID), a.lines()...),
	}
}

func (a UpdateContact) RequiredScopes() []string { return []string{ScopeContacts} }

// DeleteContact removes contact ID.
type DeleteContact struct {
	ID string
}

func (a DeleteContact) Type() ActionType { return ActionDeleteContact }

func (a DeleteContact) Fields() []Field { return []Field{{Name: "id", Value: a.ID}} }

func (a DeleteContact) Validate() error { return required("id", a.ID) }

func (a DeleteContact) Display() confirm.Display {
	return confirm.Display{Title: "Delete contact", Lines: lines("Contact", a.ID)}
}

func (a DeleteContact) RequiredScopes() []string { return []string{ScopeContacts} }
