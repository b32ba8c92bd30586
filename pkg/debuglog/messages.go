package debuglog

// DefaultMessageDefs is the built-in message table, one entry per event
// the core emits. Several entries carry no Minimal format, matching
// debug.c's pattern of reserving the compact form for the handful of
// messages that make sense as a single status token; those are not shown
// at all while minimal mode is on.
func DefaultMessageDefs() []MessageDef {
	return []MessageDef{
		{ID: MsgAnnounceRequestSent, Level: LevelComms, Flag: FlagAnnounceReq,
			Full: "TX announce request"},
		{ID: MsgAnnouncementReceived, Level: LevelComms, Flag: FlagAnnounce,
			Full: "RX announcement unique=%08X", Minimal: "ANN"},
		{ID: MsgRegistrationSent, Level: LevelComms, Flag: FlagRegistration,
			Full: "TX registration module=%02X unique=%08X", Minimal: "REG"},
		{ID: MsgStatusRequestSent, Level: LevelComms | LevelVerbose, Flag: FlagStatusReq,
			Full: "TX status request module=%02X"},
		{ID: MsgStatus1Received, Level: LevelComms, Flag: FlagStatus1,
			Full: "RX status_1 module=%02X state=%d"},
		{ID: MsgStatus2Received, Level: LevelComms, Flag: FlagStatus2,
			Full: "RX status_2 module=%02X"},
		{ID: MsgStatus3Received, Level: LevelComms, Flag: FlagStatus3,
			Full: "RX status_3 module=%02X"},
		{ID: MsgStateChangeSent, Level: LevelComms | LevelVCU, Flag: FlagStateChange,
			Full: "TX state change module=%02X state=%d", Minimal: "STATE"},
		{ID: MsgHardwareRequestSent, Level: LevelComms | LevelVerbose, Flag: FlagHardwareReq,
			Full: "TX hardware request module=%02X"},
		{ID: MsgHardwareReceived, Level: LevelComms, Flag: FlagHardware,
			Full: "RX hardware module=%02X"},
		{ID: MsgCellDetailReceived, Level: LevelComms | LevelVerbose, Flag: FlagCellDetail,
			Full: "RX cell_detail module=%02X index=%d"},
		{ID: MsgCellCommStatusReceived, Level: LevelComms | LevelVerbose, Flag: FlagCellStatus1,
			Full: "RX cell_comm_status module=%02X"},
		{ID: MsgTimeRequestReceived, Level: LevelComms, Flag: FlagTimeReq,
			Full: "RX time request module=%02X"},
		{ID: MsgSetTimeSent, Level: LevelComms, Flag: FlagSetTime,
			Full: "TX set_time module=%02X epoch=%d"},
		{ID: MsgMaxStateSent, Level: LevelComms | LevelVCU, Flag: FlagMaxState,
			Full: "TX max_state module=%02X state=%d"},
		{ID: MsgDeregisterSent, Level: LevelComms, Flag: FlagDeregister,
			Full: "TX deregister module=%02X", Minimal: "DEREG"},
		{ID: MsgIsolateAllSent, Level: LevelComms | LevelVCU, Flag: FlagIsolateAll,
			Full: "TX isolate_all", Minimal: "ISOALL"},
		{ID: MsgDeregisterAllSent, Level: LevelComms, Flag: FlagDeregisterAll,
			Full: "TX deregister_all", Minimal: "DEREGALL"},
		{ID: MsgPollingCycle, Level: LevelVerbose, Flag: FlagPolling,
			Full: "poll cycle module=%02X"},
		{ID: MsgModuleTimeout, Level: LevelErrors, Flag: FlagTimeout,
			Full: "module %02X timed out after %dms", Minimal: "TIMEOUT"},
		{ID: MsgModuleReregistered, Level: LevelComms, Flag: FlagRegistration,
			Full: "module %02X re-registered, unique=%08X unchanged"},
		{ID: MsgNewModuleRegistered, Level: LevelComms, Flag: FlagRegistration,
			Full: "module %02X newly registered, unique=%08X", Minimal: "NEW"},
		{ID: MsgUnregisteredModuleStatus, Level: LevelErrors, Flag: FlagStatusGroup,
			Full: "status from unregistered module %02X, ignored"},
		{ID: MsgRegistryFull, Level: LevelErrors, Flag: FlagRegistration,
			Full: "registry full, unique=%08X not registered", Minimal: "FULL"},
		{ID: MsgUnknownCANID, Level: LevelErrors | LevelVerbose, Flag: FlagAll,
			Full: "unrecognized CAN id %03X"},
		{ID: MsgLinkDown, Level: LevelErrors, Flag: FlagTimeout,
			Full: "CAN link down", Minimal: "LINKDOWN"},
		{ID: MsgLinkUp, Level: LevelComms, Flag: FlagTimeout,
			Full: "CAN link up", Minimal: "LINKUP"},
	}
}
