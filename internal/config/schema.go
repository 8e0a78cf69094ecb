package config

type fileSchema struct {
	LocalName  string `toml:"local_name"`
	ServerAddr string `toml:"server_addr"`
	ServerPort int    `toml:"server_port"`
	ClientPwd  string `toml:"client_pwd"`
	ServerPwd  string `toml:"server_pwd"`

	SHA256      bool `toml:"sha256"`
	AutoConnect bool `toml:"auto_connect"`

	Transport   string `toml:"transport"`
	WSPath      string `toml:"ws_path,omitempty"`
	DialTimeout string `toml:"dial_timeout"`

	KeepaliveTicks    int `toml:"keepalive_ticks"`
	CacheRefreshTicks int `toml:"cache_refresh_ticks"`
	HistoryLength     int `toml:"history_length"`

	UcachePath  string `toml:"ucache_path"`
	HistoryPath string `toml:"history_path"`

	Bans     []string        `toml:"bans,omitempty"`
	Channels []channelSchema `toml:"channels,omitempty"`
}

type channelSchema struct {
	Name  string `toml:"name"`
	Local string `toml:"local,omitempty"`
}

func toSchema(c *Config) fileSchema {
	s := fileSchema{
		LocalName:         c.LocalName,
		ServerAddr:        c.ServerAddr,
		ServerPort:        c.ServerPort,
		ClientPwd:         c.ClientPwd,
		ServerPwd:         c.ServerPwd,
		SHA256:            c.SHA256,
		AutoConnect:       c.AutoConnect,
		Transport:         c.Transport,
		WSPath:            c.WSPath,
		DialTimeout:       c.DialTimeout.String(),
		KeepaliveTicks:    c.KeepaliveTicks,
		CacheRefreshTicks: c.CacheRefreshTicks,
		HistoryLength:     c.HistoryLength,
		UcachePath:        c.UcachePath,
		HistoryPath:       c.HistoryPath,
		Bans:              c.Bans,
	}
	for _, ch := range c.Channels {
		s.Channels = append(s.Channels, channelSchema{Name: ch.Name, Local: ch.Local})
	}
	return s
}
