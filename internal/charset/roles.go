package charset

// Role names one of the five points in the pipeline that needs its own
// charset: the locale the operator's shell runs under, the filesystem the
// track writer creates paths on, ID3 tag text, in-band ICY metadata as
// declared by the upstream source, and the charset the relay re-encodes
// ICY metadata into for its own clients.
type Role int

const (
	RoleLocale Role = iota
	RoleFilesystem
	RoleID3
	RoleMetadata
	RoleRelay
)

// RoleConfig binds every Role to a Charset. New sources typically declare
// their metadata charset out of band (an Icy-Charset header or a
// configuration default); everything downstream of that point uses these
// bindings to decide what Convert calls to make.
type RoleConfig struct {
	bindings [5]Charset
}

// NewRoleConfig builds a RoleConfig defaulting every role to UTF-8, the
// safe choice when a source declares nothing.
func NewRoleConfig() *RoleConfig {
	rc := &RoleConfig{}
	for i := range rc.bindings {
		rc.bindings[i] = UTF8
	}
	return rc
}

// Set binds role to cs.
func (rc *RoleConfig) Set(role Role, cs Charset) {
	rc.bindings[role] = cs
}

// Charset returns the charset currently bound to role.
func (rc *RoleConfig) Charset(role Role) Charset {
	return rc.bindings[role]
}

// ConvertForRole converts input from the metadata role's charset to the
// target role's charset, per the RoleConfig's current bindings.
func (rc *RoleConfig) ConvertForRole(target Role, input []byte) ([]byte, ConvertKind) {
	return Convert(rc.Charset(RoleMetadata), rc.Charset(target), input)
}
