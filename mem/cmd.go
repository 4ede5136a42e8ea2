package mem

// MemCmd is the command carried by a Packet.
type MemCmd int

// Memory commands.
const (
	InvalidCmd MemCmd = iota
	ReadReq
	ReadResp
	ReadRespWithInvalidate
	WriteReq
	WriteResp
	Writeback
	SoftPFReq
	HardPFReq
	SoftPFResp
	HardPFResp
	WriteInvalidateReq
	WriteInvalidateResp
	UpgradeReq
	UpgradeResp
	ReadExReq
	ReadExResp
	LoadLockedReq
	LoadLockedResp
	StoreCondReq
	StoreCondResp
	SwapReq
	SwapResp
	NetworkNackError
	InvalidDestError
	BadAddressError
	PrintReq
	numMemCmds
)

// CmdAttribute is a property of a MemCmd.
type CmdAttribute uint32

// Command attributes.
const (
	IsRead CmdAttribute = 1 << iota
	IsWrite
	IsPrefetch
	IsInvalidate
	NeedsExclusive
	IsRequest
	IsResponse
	NeedsResponse
	IsSWPrefetch
	IsHWPrefetch
	IsLocked
	HasData
	IsError
	IsPrint
)

type cmdInfo struct {
	attrs    CmdAttribute
	response MemCmd
	name     string
}

var cmdTable = [numMemCmds]cmdInfo{
	InvalidCmd: {0, InvalidCmd, "InvalidCmd"},
	ReadReq:    {IsRead | IsRequest | NeedsResponse, ReadResp, "ReadReq"},
	ReadResp:   {IsRead | IsResponse | HasData, InvalidCmd, "ReadResp"},
	ReadRespWithInvalidate: {
		IsRead | IsResponse | HasData | IsInvalidate,
		InvalidCmd, "ReadRespWithInvalidate",
	},
	WriteReq: {
		IsWrite | NeedsExclusive | IsRequest | NeedsResponse | HasData,
		WriteResp, "WriteReq",
	},
	WriteResp: {
		IsWrite | NeedsExclusive | IsResponse, InvalidCmd, "WriteResp",
	},
	Writeback: {
		IsWrite | NeedsExclusive | IsRequest | HasData,
		InvalidCmd, "Writeback",
	},
	SoftPFReq: {
		IsRead | IsRequest | IsSWPrefetch | NeedsResponse,
		SoftPFResp, "SoftPFReq",
	},
	HardPFReq: {
		IsRead | IsRequest | IsHWPrefetch | NeedsResponse,
		HardPFResp, "HardPFReq",
	},
	SoftPFResp: {
		IsRead | IsResponse | IsSWPrefetch | HasData,
		InvalidCmd, "SoftPFResp",
	},
	HardPFResp: {
		IsRead | IsResponse | IsHWPrefetch | HasData,
		InvalidCmd, "HardPFResp",
	},
	WriteInvalidateReq: {
		IsWrite | NeedsExclusive | IsInvalidate |
			IsRequest | HasData | NeedsResponse,
		WriteInvalidateResp, "WriteInvalidateReq",
	},
	WriteInvalidateResp: {
		IsWrite | NeedsExclusive | IsResponse,
		InvalidCmd, "WriteInvalidateResp",
	},
	UpgradeReq: {
		IsInvalidate | NeedsExclusive | IsRequest | NeedsResponse,
		UpgradeResp, "UpgradeReq",
	},
	UpgradeResp: {NeedsExclusive | IsResponse, InvalidCmd, "UpgradeResp"},
	ReadExReq: {
		IsRead | NeedsExclusive | IsInvalidate | IsRequest | NeedsResponse,
		ReadExResp, "ReadExReq",
	},
	ReadExResp: {
		IsRead | NeedsExclusive | IsResponse | HasData,
		InvalidCmd, "ReadExResp",
	},
	LoadLockedReq: {
		IsRead | IsLocked | IsRequest | NeedsResponse,
		LoadLockedResp, "LoadLockedReq",
	},
	LoadLockedResp: {
		IsRead | IsLocked | IsResponse | HasData,
		InvalidCmd, "LoadLockedResp",
	},
	StoreCondReq: {
		IsWrite | NeedsExclusive | IsLocked |
			IsRequest | NeedsResponse | HasData,
		StoreCondResp, "StoreCondReq",
	},
	StoreCondResp: {
		IsWrite | NeedsExclusive | IsLocked | IsResponse,
		InvalidCmd, "StoreCondResp",
	},
	SwapReq: {
		IsRead | IsWrite | NeedsExclusive | IsRequest | HasData | NeedsResponse,
		SwapResp, "SwapReq",
	},
	SwapResp: {
		IsRead | IsWrite | NeedsExclusive | IsResponse | HasData,
		InvalidCmd, "SwapResp",
	},
	NetworkNackError: {IsResponse | IsError, InvalidCmd, "NetworkNackError"},
	InvalidDestError: {IsResponse | IsError, InvalidCmd, "InvalidDestError"},
	BadAddressError:  {IsResponse | IsError, InvalidCmd, "BadAddressError"},
	PrintReq:         {IsRequest | IsPrint, InvalidCmd, "PrintReq"},
}

func (c MemCmd) info() cmdInfo {
	if c < 0 || c >= numMemCmds {
		return cmdTable[InvalidCmd]
	}

	return cmdTable[c]
}

// Has tells if the command has the attribute.
func (c MemCmd) Has(a CmdAttribute) bool {
	return c.info().attrs&a != 0
}

// ResponseCommand returns the command of the response to this command.
func (c MemCmd) ResponseCommand() MemCmd {
	return c.info().response
}

// IsRead tells if the command reads memory.
func (c MemCmd) IsRead() bool { return c.Has(IsRead) }

// IsWrite tells if the command writes memory.
func (c MemCmd) IsWrite() bool { return c.Has(IsWrite) }

// IsRequest tells if the command is a request.
func (c MemCmd) IsRequest() bool { return c.Has(IsRequest) }

// IsResponse tells if the command is a response.
func (c MemCmd) IsResponse() bool { return c.Has(IsResponse) }

// NeedsResponse tells if the command expects a response.
func (c MemCmd) NeedsResponse() bool { return c.Has(NeedsResponse) }

// NeedsExclusive tells if the command needs an exclusive copy.
func (c MemCmd) NeedsExclusive() bool { return c.Has(NeedsExclusive) }

// IsInvalidate tells if the command invalidates other copies.
func (c MemCmd) IsInvalidate() bool { return c.Has(IsInvalidate) }

// IsLocked tells if the command is a load-locked or store-conditional.
func (c MemCmd) IsLocked() bool { return c.Has(IsLocked) }

// HasData tells if a packet with the command carries data.
func (c MemCmd) HasData() bool { return c.Has(HasData) }

// IsError tells if the command is an error response.
func (c MemCmd) IsError() bool { return c.Has(IsError) }

// IsPrint tells if the command is a print request.
func (c MemCmd) IsPrint() bool { return c.Has(IsPrint) }

// IsPrefetch tells if the command is a software or hardware prefetch.
func (c MemCmd) IsPrefetch() bool { return c.Has(IsSWPrefetch | IsHWPrefetch) }

func (c MemCmd) String() string {
	return c.info().name
}
