package domain

import "fmt"

type Credentials struct {
	Host     string
	Database string
	Username string
	Password string
}

func (c Credentials) String() string {
	return fmt.Sprintf("%s@%s/%s", c.Username, c.Host, c.Database)
}

// GoString keeps the password out of %#v output.
func (c Credentials) GoString() string {
	return fmt.Sprintf("domain.Credentials{Host:%q, Database:%q, Username:%q, Password:\"****\"}",
		c.Host, c.Database, c.Username)
}
