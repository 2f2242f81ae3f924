// Package telnet implements the RFC 854/855 byte-stream codec and option
// negotiation state machine used by the portal's session actors.
package telnet

// Command bytes (the byte following IAC).
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Subnegotiation begin
	GA   byte = 249 // Go ahead
	SE   byte = 240 // Subnegotiation end
	NOP  byte = 241
	EOR  byte = 239 // End of record (RFC 885)
)

// Option bytes relevant to this portal. Unlisted options are always
// refused (DONT/WONT) by the negotiator.
const (
	OptBinary   byte = 0
	OptEcho     byte = 1
	OptSGA      byte = 3   // Suppress Go Ahead
	OptTTYPE    byte = 24  // carries the MTTS sub-protocol
	OptEORopt   byte = 25  // TELOPT_EOR
	OptNAWS     byte = 31  // window size
	OptLinemode byte = 34
	OptMSDP     byte = 69
	OptMSSP     byte = 70
	OptMCCP2    byte = 86
	OptMCCP3    byte = 87
	OptGMCP     byte = 201
)

// MTTS subnegotiation byte values, carried inside TTYPE payloads.
const (
	mttsIS   byte = 0
	mttsSend byte = 1
)
