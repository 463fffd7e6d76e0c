package selfservice

func strP(s string) *string { return &s }
func intP(i int) *int       { return &i }

func csrfNode(csrfToken string) UiNode {
	return UiNode{
		NodeType: "input",
		Group:    "default",
		Attributes: UiNodeAttributes{
			Name:      "csrf_token",
			InputType: "hidden",
			Value:     csrfToken,
			Required:  true,
		},
		Messages: []UiMessage{},
	}
}

func methodNodes(group, method, submitLabel string) []UiNode {
	return []UiNode{
		{
			NodeType: "input",
			Group:    group,
			Attributes: UiNodeAttributes{
				Name:      "method",
				InputType: "hidden",
				Value:     method,
			},
			Messages: []UiMessage{},
		},
		{
			NodeType: "input",
			Group:    group,
			Attributes: UiNodeAttributes{
				Name:      "method",
				InputType: "submit",
				Value:     method,
			},
			Messages: []UiMessage{},
			Meta:     UiNodeMeta{Label: &UiLabel{Text: submitLabel}},
		},
	}
}

// loginNodes renders the credential form.
func loginNodes(csrfToken *string) []UiNode {
	var nodes []UiNode

	if csrfToken != nil {
		nodes = append(nodes, csrfNode(*csrfToken))
	}

	nodes = append(nodes,
		UiNode{
			NodeType: "input",
			Group:    "default",
			Attributes: UiNodeAttributes{
				Name:         "identifier",
				InputType:    "email",
				Required:     true,
				Autocomplete: strP("username"),
			},
			Messages: []UiMessage{},
			Meta:     UiNodeMeta{Label: &UiLabel{Text: "Email"}},
		},
		UiNode{
			NodeType: "input",
			Group:    "password",
			Attributes: UiNodeAttributes{
				Name:         "password",
				InputType:    "password",
				Required:     true,
				Autocomplete: strP("current-password"),
			},
			Messages: []UiMessage{},
			Meta:     UiNodeMeta{Label: &UiLabel{Text: "Password"}},
		},
	)

	return append(nodes, methodNodes("password", "password", "Sign in")...)
}

// registrationNodes renders the signup form.
func registrationNodes(csrfToken *string) []UiNode {
	var nodes []UiNode

	if csrfToken != nil {
		nodes = append(nodes, csrfNode(*csrfToken))
	}

	nodes = append(nodes,
		UiNode{
			NodeType: "input",
			Group:    "profile",
			Attributes: UiNodeAttributes{
				Name:         "full_name",
				InputType:    "text",
				Autocomplete: strP("name"),
			},
			Messages: []UiMessage{},
			Meta:     UiNodeMeta{Label: &UiLabel{Text: "Full Name"}},
		},
		UiNode{
			NodeType: "input",
			Group:    "password",
			Attributes: UiNodeAttributes{
				Name:         "email",
				InputType:    "email",
				Required:     true,
				Autocomplete: strP("email"),
			},
			Messages: []UiMessage{},
			Meta:     UiNodeMeta{Label: &UiLabel{Text: "Email"}},
		},
		UiNode{
			NodeType: "input",
			Group:    "password",
			Attributes: UiNodeAttributes{
				Name:         "password",
				InputType:    "password",
				Required:     true,
				Autocomplete: strP("new-password"),
			},
			Messages: []UiMessage{},
			Meta:     UiNodeMeta{Label: &UiLabel{Text: "Password"}},
		},
	)

	return append(nodes, methodNodes("password", "password", "Create account")...)
}

// totpNodes replaces the form when a login transitions to RequiresMfa.
func totpNodes(csrfToken *string) []UiNode {
	var nodes []UiNode

	if csrfToken != nil {
		nodes = append(nodes, csrfNode(*csrfToken))
	}

	nodes = append(nodes, UiNode{
		NodeType: "input",
		Group:    "totp",
		Attributes: UiNodeAttributes{
			Name:         "totp_code",
			InputType:    "text",
			Required:     true,
			Pattern:      strP("[0-9]{6}"),
			Autocomplete: strP("one-time-code"),
			Maxlength:    intP(6),
		},
		Messages: []UiMessage{},
		Meta:     UiNodeMeta{Label: &UiLabel{Text: "Authenticator Code"}},
	})

	return append(nodes, methodNodes("totp", "totp", "Verify")...)
}
